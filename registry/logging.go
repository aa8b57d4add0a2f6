package registry

import "github.com/rs/zerolog/log"

var logger = log.With().Str("component", "registry").Logger()
