package ws

import (
	"time"

	"nwcly.dev/pkg/utils/errorf"
)

const defaultDialTimeout = 7 * time.Second

func errInvalidURL(url string) error {
	return errorf.E("invalid relay URL '%s'", url)
}

func errNoAuthSigner() error {
	return errorf.E("pool has no auth signer configured")
}
