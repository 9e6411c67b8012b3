package main

import (
	"context"
	"log"

	"alnorchestrator/internal/cue"
	"alnorchestrator/internal/video"
)

// videoExecutor is the cue engine's CommandExecutor (spec.md §4.9):
// video:play and video:queue:add enqueue on the real video queue service
// and video:stop stops it; every other action, including any other
// video:* action and every other asset family (audio, lighting, Home
// Assistant, out of scope per spec.md §1 Non-goals), is logged rather
// than dispatched, exactly the no-op/logging stub cue.CommandExecutor's
// doc comment calls for.
type videoExecutor struct {
	video *video.Service
}

func (e *videoExecutor) Execute(ctx context.Context, cmd cue.Command) error {
	switch cmd.Action {
	case "video:play", "video:queue:add":
		tokenID, _ := cmd.Payload["tokenId"].(string)
		source, _ := cmd.Payload["source"].(string)
		duration, _ := cmd.Payload["duration"].(int)
		e.video.AddToQueue(tokenID, source, duration)
	case "video:stop":
		e.video.StopCurrent()
	default:
		log.Printf("alnd: cue command %q routed to %q has no driver in this deployment, logging only", cmd.Action, cmd.Target)
	}
	return nil
}
