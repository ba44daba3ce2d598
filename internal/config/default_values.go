package config

const (
	DefaultMaxRounds         = 30
	DefaultContextTokenLimit = 128000
)
