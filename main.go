package main

import "github.com/seqlike/snel/cmd"

// TODO: resume a run from an existing checkpoint plus a saved dataset
// TODO: pluggable MCMC kernels (the chain machinery already isolates the proposal)

func main() {
	cmd.Execute()
}
