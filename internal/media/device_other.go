//go:build !linux || !cgo

package media

import "github.com/rs/zerolog/log"

// DefaultCapturer falls back to a silent stream where no capture driver is
// built in. Calls still negotiate audio and receive the remote side.
func DefaultCapturer() Capturer {
	log.Info().Str("module", "media.device").Msg("no capture driver on this platform, using silent source")
	return SyntheticCapturer{}
}
