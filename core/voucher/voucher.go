// Package voucher resolves the final price of a course purchase from the
// redeemed rewards a resident holds.
package voucher

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RewardType string

const (
	CashVoucher     RewardType = "Cash_Voucher"
	DiscountVoucher RewardType = "Discount_Voucher"
)

var (
	ErrInvalidVoucher     = errors.New("voucher does not exist, belongs to someone else or was already used")
	ErrInvalidVoucherType = errors.New("voucher reward type is not supported")
)

type Voucher struct {
	Code        string          `json:"voucherCode" db:"voucher_code"`
	ResidentID  string          `json:"residentId" db:"resident_id"`
	RewardType  RewardType      `json:"rewardType" db:"reward_type"`
	RewardValue decimal.Decimal `json:"rewardValue" db:"reward_value"`
	Used        bool            `json:"used" db:"used"`
	UsedAt      *time.Time      `json:"usedAt,omitempty" db:"used_at"`
}

type ValidateReq struct {
	VoucherCode string `json:"voucherCode" validate:"required,max=64"`
	CourseID    string `json:"courseId" validate:"required"`
	ResidentID  string `json:"residentId" validate:"required"`
}

type ValidateResp struct {
	RewardType  RewardType      `json:"rewardType"`
	RewardValue decimal.Decimal `json:"rewardValue"`
	FinalPrice  decimal.Decimal `json:"finalPrice"`
}

var hundred = decimal.NewFromInt(100)

// Resolve applies v to price. A nil voucher leaves the price unchanged. The
// result never goes below zero and is rounded to cents.
func Resolve(price decimal.Decimal, v *Voucher) (decimal.Decimal, error) {
	if v == nil {
		return price, nil
	}

	var final decimal.Decimal
	switch v.RewardType {
	case CashVoucher:
		final = price.Sub(v.RewardValue)
	case DiscountVoucher:
		final = price.Mul(decimal.NewFromInt(1).Sub(v.RewardValue.Div(hundred)))
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidVoucherType, v.RewardType)
	}

	if final.IsNegative() {
		final = decimal.Zero
	}
	return final.Round(2), nil
}
