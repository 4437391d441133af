// Package actor provides the external actor side of the bridge for Go
// hosts: a Mailbox that receives runtime events without ever blocking the
// session workers, and Handlers for a single-goroutine event loop.
//
//	mb := actor.NewMailbox()
//	rt, _ := runtime.New(ctx, runtime.WithNotifier(mb))
//	go mb.Run(ctx, actor.Handlers{
//	    ImportCall: func(ev runtime.ImportCall) {
//	        _ = rt.ReplyToImport(ev.Session, ev.ImportID, nil)
//	    },
//	})
package actor
