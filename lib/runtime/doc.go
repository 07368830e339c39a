// Package runtime holds the serving runtime's configuration. Settings
// collects every tunable of the coordinator, the replica pool and the
// front-facing server in one explicit struct, there is no global state.
// The serve command fills it from flags, environment variables and an
// optional .env file via viper.
package runtime
