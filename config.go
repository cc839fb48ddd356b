package bindgen

import (
	internal "github.com/jerbob92/wazero-bindgen/internal"
)

type DelayFunction = internal.DelayFunction

type EngineConfig = internal.EngineConfig

func NewConfig() *EngineConfig {
	return internal.NewConfig()
}
