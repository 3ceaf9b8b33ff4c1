package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/crowdpen/payd/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const feeSettingsCacheKey = "payd:fee_settings:active"

// cachedFeeSettings keeps the decimals as strings so the cache codec does
// not need to know about decimal.Decimal.
type cachedFeeSettings struct {
	CrowdpenFeePct    string `json:"crowdpen_fee_pct"`
	StartbuttonFeePct string `json:"startbutton_fee_pct"`
}

// GetActiveFeeSettings returns the single active fee settings row, or nil
// when none is active. With a cache and a positive TTL configured the row
// is read through the cache.
func (d Datasource) GetActiveFeeSettings(ctx context.Context) (*model.FeeSettings, error) {
	useCache := d.Cache != nil && d.FeeCacheTTL > 0
	if useCache {
		var cached cachedFeeSettings
		found, err := d.Cache.Get(ctx, feeSettingsCacheKey, &cached)
		if err != nil {
			logrus.Warnf("fee settings cache read failed: %v", err)
		}
		if found && err == nil {
			crowdpen, errA := decimal.NewFromString(cached.CrowdpenFeePct)
			startbutton, errB := decimal.NewFromString(cached.StartbuttonFeePct)
			if errA == nil && errB == nil {
				return &model.FeeSettings{CrowdpenFeePct: crowdpen, StartbuttonFeePct: startbutton}, nil
			}
		}
	}

	fees := &model.FeeSettings{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT crowdpen_fee_pct, startbutton_fee_pct
		FROM fee_settings
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&fees.CrowdpenFeePct, &fees.StartbuttonFeePct)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBError(err, "Failed to retrieve fee settings")
	}

	if useCache {
		err := d.Cache.Set(ctx, feeSettingsCacheKey, cachedFeeSettings{
			CrowdpenFeePct:    fees.CrowdpenFeePct.String(),
			StartbuttonFeePct: fees.StartbuttonFeePct.String(),
		}, d.FeeCacheTTL)
		if err != nil {
			logrus.Warnf("fee settings cache write failed: %v", err)
		}
	}
	return fees, nil
}
