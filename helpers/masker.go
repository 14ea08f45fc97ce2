package helpers

import (
	"net/url"
	"strings"
)

// MaskDSN redacts the password of a URL-style connection string so it can be
// logged. Plain file paths are returned unchanged.
func MaskDSN(dsn string) string {
	i := strings.Index(dsn, "://")
	if i < 0 {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn[:i+3] + "***"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
