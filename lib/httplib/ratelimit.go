/*
 * Authen Gateway
 * Copyright (C) 2026  Authen Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package httplib

import (
	"net/http"
	"strconv"

	gateway "github.com/Johnie198946/Authen-sub000"
)

// SetRateLimitHeaders writes the three quota headers every rate-limited
// endpoint responds with, success or failure.
func SetRateLimitHeaders(h http.Header, limit, remaining int, reset int64) {
	h.Set(gateway.HeaderRateLimitLimit, strconv.Itoa(limit))
	h.Set(gateway.HeaderRateLimitRemaining, strconv.Itoa(remaining))
	h.Set(gateway.HeaderRateLimitReset, strconv.FormatInt(reset, 10))
}

// SetRetryAfter writes the Retry-After header emitted on denials.
func SetRetryAfter(h http.Header, seconds int64) {
	if seconds < 1 {
		seconds = 1
	}
	h.Set(gateway.HeaderRetryAfter, strconv.FormatInt(seconds, 10))
}
