package registry

import "github.com/4throck/deskrelay/internal/sessioncode"

func defaultGenerateCode() (string, error) {
	return sessioncode.Generate()
}
