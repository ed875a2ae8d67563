package config

import (
	"fmt"
	"time"
)

// Duration は YAML 上で "2s" や数値 (秒) を受け付ける time.Duration のラッパーです。
type Duration struct {
	time.Duration
}

// DurationFrom は time.Duration から Duration を生成します。
func DurationFrom(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("不正な期間指定です %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML は期間を文字列として出力します。
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// UnmarshalYAML は文字列の期間指定、または秒数を表す数値を受け付けます。
func (d *Duration) UnmarshalYAML(value func(any) error) error {
	var raw any
	if err := value(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		return d.UnmarshalText([]byte(v))
	case int:
		d.Duration = time.Duration(v) * time.Second
		return nil
	case float64:
		d.Duration = time.Duration(v * float64(time.Second))
		return nil
	default:
		return fmt.Errorf("期間として解釈できない型です: %T", raw)
	}
}
