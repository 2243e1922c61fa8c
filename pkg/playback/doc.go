// ABOUTME: Package documentation for the playback controller
// ABOUTME: Context snapshots, fetch planning and sink feeding over the chunk cache
/*
Package playback plays contexts resolved through a session into an audio
sink.

A Controller owns one Context at a time and replaces it on every change, so
a snapshot taken by an observer never changes underneath it. Track data is
fetched through the session into the chunk cache; decoding only advances
while the next lookahead window is available in the cache, so the sink
never sees bytes that were not delivered.

Like the session, the controller is driven by Pump from the goroutine that
owns it. In push mode Pump offers decoded frames to the sink; in pull mode
the sink drains them through OnAudioSinkPull.

	ctrl, err := playback.New(playback.Config{
		Session: mgr,
		Cache:   chunks,
		Bus:     bus,
		Sink:    sink,
	})
	...
	ctrl.PlayURI("spotify:playlist:road", 0, 0)
	for {
		mgr.Pump()
		ctrl.Pump()
		bus.Dispatch()
	}
*/
package playback
