package urahttp

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/CarparkFinder/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var firstInt = regexp.MustCompile(`\d+`)

// parseRate turns "$1.20" (or "$1,020.00") into a decimal amount.
func parseRate(s string) (decimal.Decimal, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, ",", "")
	if v == "" {
		return decimal.Decimal{}, errors.Errorf("empty rate %q", s)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse rate %q", s)
	}
	return d, nil
}

// parseMinutes takes the first integer in strings like "30 mins" or "510 mins".
func parseMinutes(s string) (int, error) {
	m := firstInt.FindString(s)
	if m == "" {
		return 0, errors.Errorf("no minutes in %q", s)
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, errors.Wrapf(err, "parse minutes %q", s)
	}
	return n, nil
}

// parseTimeOfDay accepts the feed's "07.00 AM" format.
func parseTimeOfDay(s string) (models.TimeOfDay, error) {
	t, err := time.Parse("03.04 PM", strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "parse time %q", s)
	}
	return models.NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func parseLots(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "parse lots %q", s)
	}
	return n, nil
}

func parseDayRate(rate, min string) (models.DayRate, error) {
	r, err := parseRate(rate)
	if err != nil {
		return models.DayRate{}, err
	}
	m, err := parseMinutes(min)
	if err != nil {
		return models.DayRate{}, err
	}
	return models.DayRate{Rate: r, MinMinutes: m}, nil
}
