// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package file

import "time"

// Retention keywords accepted in the upload form.
const (
	RetentionDay   = "day"
	RetentionWeek  = "week"
	RetentionMonth = "month"
)

// Policy maps retention keywords to durations.
type Policy struct {
	Day   time.Duration
	Week  time.Duration
	Month time.Duration
}

// DefaultPolicy keeps uploads for one day, seven days or 28 days.
var DefaultPolicy = Policy{
	Day:   24 * time.Hour,
	Week:  7 * 24 * time.Hour,
	Month: 28 * 24 * time.Hour,
}

// Normalize returns the keyword the policy will actually apply.
// Unknown or empty keywords fall back to day.
func Normalize(keyword string) string {
	switch keyword {
	case RetentionWeek, RetentionMonth:
		return keyword
	default:
		return RetentionDay
	}
}

// Expiry returns the instant after which an upload made at now may be
// collected.
func (p Policy) Expiry(keyword string, now time.Time) time.Time {
	switch Normalize(keyword) {
	case RetentionWeek:
		return now.Add(p.Week)
	case RetentionMonth:
		return now.Add(p.Month)
	default:
		return now.Add(p.Day)
	}
}

// ComputeExpiry applies DefaultPolicy.
func ComputeExpiry(keyword string, now time.Time) time.Time {
	return DefaultPolicy.Expiry(keyword, now)
}
