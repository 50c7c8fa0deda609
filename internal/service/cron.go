package service

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseCron validates a standard 5 field cron expression or a descriptor
// such as @hourly or @every 10m.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return errors.New("empty cron expression")
	}
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}
	if n := len(strings.Fields(e)); n != 5 {
		return fmt.Errorf("invalid field count: got %d (want 5)", n)
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(e)
	return err
}

var cueDurationRx = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// ParseCueDuration parses durations in the 1d2h3m4s form used by the config
// file. Every segment is optional but they must come in this order.
func ParseCueDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty duration")
	}
	m := cueDurationRx.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration format %q", s)
	}
	units := [...]time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}

	var total time.Duration
	for i, seg := range m[1:] {
		if seg == "" {
			continue
		}
		val, err := strconv.ParseInt(seg[:len(seg)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in %s: %w", seg, err)
		}
		if val > int64(math.MaxInt64/units[i]) {
			return 0, errors.New("duration overflow")
		}
		add := time.Duration(val) * units[i]
		if total > time.Duration(math.MaxInt64)-add {
			return 0, errors.New("duration overflow")
		}
		total += add
	}
	return total, nil
}
