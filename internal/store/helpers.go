package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func nowUnixNano() int64 { return time.Now().UnixNano() }

func unixNanoToTime(ns int64) time.Time { return time.Unix(0, ns) }

func encodeFeeOther(m map[string]decimal.Decimal) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	strMap := make(map[string]string, len(m))
	for k, v := range m {
		strMap[k] = v.String()
	}
	data, err := json.Marshal(strMap)
	if err != nil {
		return "", fmt.Errorf("store: encode fee_other: %w", err)
	}
	return string(data), nil
}

func decodeFeeOther(s string) (map[string]decimal.Decimal, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var strMap map[string]string
	if err := json.Unmarshal([]byte(s), &strMap); err != nil {
		return nil, fmt.Errorf("store: decode fee_other: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(strMap))
	for k, v := range strMap {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("store: decode fee_other value: %w", err)
		}
		out[k] = d
	}
	return out, nil
}
