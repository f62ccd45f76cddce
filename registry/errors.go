// Copyright 2026 Altus4
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

package registry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"

	"altus4/core/shared/apperror"
)

// MySQL server error numbers the classifier recognises.
const (
	erAccessDenied       = 1045
	erDBAccessDenied     = 1044
	erTableAccessDenied  = 1142
	erTooManyConnections = 1040
	erBadDatabase        = 1049
	erSecureTransport    = 3159
)

// ClassifyDialError maps a raw dial or ping failure to a taxonomy error with
// actionable suggestions. The raw error is kept as the cause for logging but
// its message never reaches clients.
func ClassifyDialError(err error, host, database string) *apperror.Error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case erAccessDenied:
			return apperror.Wrap(apperror.CodeAuthenticationFailed,
				"database rejected the credentials", err,
				"Check the username and password",
				"Verify the user is allowed to connect from this host")
		case erDBAccessDenied, erTableAccessDenied:
			return apperror.Wrap(apperror.CodePermissionDenied,
				"database user lacks required privileges", err,
				"Grant SELECT on the target schema to this user")
		case erBadDatabase:
			return apperror.Wrap(apperror.CodeDatabaseNotFound,
				"schema "+database+" does not exist", err,
				"Check the database name",
				"Create the schema before registering the connection")
		case erTooManyConnections:
			return apperror.Wrap(apperror.CodeTooManyConnections,
				"database has no free connection slots", err,
				"Retry shortly",
				"Raise max_connections on the database server")
		case erSecureTransport:
			return apperror.Wrap(apperror.CodeSSLRequired,
				"database requires a TLS connection", err,
				"Enable SSL on this connection")
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Wrap(apperror.CodeTimeout,
			"database did not respond in time", err,
			"Check network reachability to "+host,
			"Retry the request")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperror.Wrap(apperror.CodeTimeout,
			"database did not respond in time", err,
			"Check network reachability to "+host,
			"Retry the request")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return apperror.Wrap(apperror.CodeHostNotFound,
			"host "+host+" could not be resolved", err,
			"Check the hostname for typos",
			"Verify DNS from the service network")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return apperror.Wrap(apperror.CodeConnectionRefused,
			"database refused the connection", err,
			"Check that MySQL is running on "+host,
			"Verify the port and any firewall rules")
	case strings.Contains(msg, "no such host"):
		return apperror.Wrap(apperror.CodeHostNotFound,
			"host "+host+" could not be resolved", err,
			"Check the hostname for typos")
	case strings.Contains(msg, "tls") || strings.Contains(msg, "ssl"):
		return apperror.Wrap(apperror.CodeSSLRequired,
			"TLS negotiation with the database failed", err,
			"Toggle the SSL setting on this connection")
	}

	return apperror.Wrap(apperror.CodeInternalError,
		"could not connect to the database", err,
		"Retry the request",
		"Test the connection via POST /databases/:id/test")
}
