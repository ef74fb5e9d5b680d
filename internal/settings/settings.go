package settings

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/admosplace/food_ordering/internal/models"
)

const (
	ServiceCharge   = "service_charge"
	VATPercentage   = "vat_percentage"
	DeliveryFeeBase = "delivery_fee_base"
	PlateFee        = "plate_fee"
)

// Defaults applied when a setting row is missing or inactive.
var defaults = map[string]decimal.Decimal{
	ServiceCharge:   decimal.NewFromInt(100),
	VATPercentage:   decimal.NewFromFloat(7.5),
	DeliveryFeeBase: decimal.NewFromInt(500),
	PlateFee:        decimal.NewFromInt(50),
}

type Service struct {
	DB *gorm.DB
}

func (s *Service) Get(settingType string) decimal.Decimal {
	var setting models.SystemSetting
	err := s.DB.Where("setting_type = ? AND is_active = ?", settingType, true).First(&setting).Error
	if err != nil {
		return defaults[settingType]
	}
	return setting.Value
}

func (s *Service) Set(settingType string, value decimal.Decimal, description string, updatedBy uint) (*models.SystemSetting, error) {
	if err := validate(settingType, value); err != nil {
		return nil, err
	}

	var setting models.SystemSetting
	err := s.DB.Where("setting_type = ?", settingType).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		setting = models.SystemSetting{
			SettingType: settingType,
			Value:       value,
			Description: description,
			IsActive:    true,
			UpdatedBy:   updatedBy,
		}
		if err := s.DB.Create(&setting).Error; err != nil {
			return nil, fmt.Errorf("create setting %s: %w", settingType, err)
		}
		return &setting, nil
	}
	if err != nil {
		return nil, err
	}

	setting.Value = value
	setting.Description = description
	setting.UpdatedBy = updatedBy
	if err := s.DB.Save(&setting).Error; err != nil {
		return nil, fmt.Errorf("update setting %s: %w", settingType, err)
	}
	return &setting, nil
}

func validate(settingType string, value decimal.Decimal) error {
	switch settingType {
	case ServiceCharge:
		if value.IsNegative() {
			return errors.New("service charge must be 0 or greater")
		}
	case VATPercentage:
		if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(50)) {
			return errors.New("VAT percentage must be between 0 and 50")
		}
	case DeliveryFeeBase:
		if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(10000)) {
			return errors.New("base delivery fee must be between 0 and 10,000")
		}
	case PlateFee:
		if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(1000)) {
			return errors.New("plate fee must be between 0 and 1,000")
		}
	default:
		return fmt.Errorf("unknown setting type %q", settingType)
	}
	return nil
}
