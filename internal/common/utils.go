package common

import (
	"strings"
)

func GetAuthorizationToken(authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if !(len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "") {
		return "", NewErrNo(TokenInvalid)
	}
	return parts[1], nil
}
