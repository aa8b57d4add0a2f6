package storage

import "github.com/rs/zerolog/log"

var logger = log.With().Str("component", "storage").Logger()
