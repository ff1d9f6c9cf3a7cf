package config

type WorkerKeyStruct struct {
	// StaleAttemptsQueue receives attempts whose ephemeral state could not be
	// cleared after a successful finalize.
	StaleAttemptsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	StaleAttemptsQueue: "stale_attempts_queue",
}
