package config

// RedactedConfig returns a copy of cfg with credentials replaced by "***" so
// the active configuration can be logged.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Supabase = cfg.Supabase
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)

	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	out.Server = cfg.Server
	redact(&out.Server.APIKey)
	redact(&out.Server.ReadOnlyAPIKey)

	// RPC URLs commonly embed a provider key in the path.
	out.Onchain = cfg.Onchain
	redact(&out.Onchain.RPCURL)

	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}

	if cfg.Hedge.Whitelist != nil {
		out.Hedge.Whitelist = append([]string(nil), cfg.Hedge.Whitelist...)
	}
	if cfg.Venues.Feeds != nil {
		out.Venues.Feeds = append([]FeedVenueConfig(nil), cfg.Venues.Feeds...)
	}
	if cfg.Onchain.Tokens != nil {
		out.Onchain.Tokens = append([]TokenConfig(nil), cfg.Onchain.Tokens...)
	}

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
