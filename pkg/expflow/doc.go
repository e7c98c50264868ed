// Package expflow persists participants and experiments as JSON documents and
// drives experiments trial by trial.
//
// A Store owns one data directory. Participants and experiments are created
// and loaded through it and are written back after every mutation:
//
//	s, err := expflow.Open(types.Config{DataDir: dir})
//	defer s.Close()
//
//	p, err := s.NewParticipant("p001")
//	e, err := s.NewExperiment("p001", "stroop", types.NumberedTrials(10)...)
//	for trial, err := range e.Iterate() {
//		...
//	}
//
// Documents live under <data>/Participants/<pid>.json and
// <data>/Experiments/<pid>.<eid>.json, optionally gzip-compressed with a .gz
// suffix. Trials are stored inside their experiment's document.
package expflow
