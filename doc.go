// Package evh provides a multi-threaded, OS-polled, non-blocking TCP event
// handler with optional TLS termination/initiation and a slab-backed
// zero-copy read pipeline.
//
// # Architecture
//
// An EVH owns N worker goroutines, each pinned to one slot, each driving
// its own OS selector (epoll on Linux, kqueue on Darwin, WSAPoll on
// Windows). Connections are distributed across
// workers at accept time (or explicitly via AddClient) and never migrate
// between workers afterwards.
//
// Received bytes are held in a per-stream chain of fixed-size slabs
// (see [SlabPool]) until the owning on_read callback releases them with
// [ConnectionData.ClearThrough]. The EVH never reclaims read bytes on its
// own; this is the "zero-copy" contract — callbacks observe the slab
// chain in place rather than receiving a freshly allocated buffer.
//
// # Platform support
//
// I/O readiness is demultiplexed using platform-native mechanisms:
//   - Linux: epoll, edge-triggered, one-shot re-arm after every event.
//   - Darwin: kqueue.
//   - Windows: a WSAPoll-based selector, one-shot re-arm after every event.
//
// # Usage
//
//	e, err := evh.New(evh.Config{Threads: 4})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	e.SetOnRead(func(cd *evh.ConnectionData, tc evh.ThreadContext, att evh.Attachment) error {
//	    wh := cd.WriteHandle()
//	    _, err := wh.Write(cd.SlabAllocator().Payload(cd.FirstSlab()))
//	    cd.ClearThrough(cd.LastSlab())
//	    return err
//	})
//	if err := e.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
//	ctl := e.Controller()
//	err = ctl.AddServer(evh.ServerOptions{Address: "0.0.0.0:9000"})
package evh
