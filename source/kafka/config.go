package kafka

type Config struct {
	Brokers   []string `koanf:"brokers"`
	ClientID  string   `koanf:"client_id"`
	StartFrom string   `koanf:"start_from"` // oldest|newest (default newest)
	Version   string   `koanf:"version"`
	TLSEn     bool     `koanf:"tls_enabled"`
	SASLUser  string   `koanf:"sasl_user"`
	SASLPass  string   `koanf:"sasl_pass"`

	// Filled from the relay parameters, not from the config file.
	ConsumerGroup          string `koanf:"-"`
	CommitLogTopic         string `koanf:"-"`
	SynchronizeCommitGroup string `koanf:"-"`

	// Buffer is how many released messages may wait for Poll.
	Buffer int `koanf:"buffer"`
}
