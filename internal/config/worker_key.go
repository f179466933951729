package config

type WorkerKeyStruct struct {
	AttemptScoresQueue string
}

var WorkerKey = &WorkerKeyStruct{
	AttemptScoresQueue: "attempt_scores_queue",
}
