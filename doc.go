// Package conveyor provides staged construction of job-processing workers.
// A worker is assembled from a pull-based source of job requests, an ordered
// chain of middleware layers, and a terminal handler; the job payload type is
// fixed when the source is attached and enforced by the compiler through
// every later step.
//
// Conveyor is a library, not a service. The root package only builds workers;
// polling, storage, retries, and the run loop live in collaborator packages
// (source, store, monitor) so that assembly itself stays pure.
//
// # Quick Start
//
//	src := source.NewChan[Invoice](64)
//
//	w := conveyor.AttachSource(conveyor.NewBuilder("invoice-worker"), conveyor.Source[Invoice](src)).
//	    Layer(middleware.Recover[Invoice](logger)).
//	    Layer(middleware.Logging[Invoice](logger)).
//	    BuildFunc(func(ctx context.Context, req *conveyor.Request[Invoice]) (any, error) {
//	        return nil, bill(ctx, req.Payload)
//	    })
//
//	m := monitor.New(monitor.Config{Logger: logger})
//	_ = monitor.Register(m, w)
//	_ = m.Run(ctx)
//
// # Ownership
//
// Builder values move: every call that advances construction spends its
// receiver and returns a fresh value. Holding on to a spent *Builder or
// *Pipeline and calling it again is a programming error and panics. A
// pipeline can therefore be built at most once.
//
// # Architecture
//
// Sources are pull-based and three-valued: a Poll yields a request, nothing
// right now, or an error. Layers are handler transformations applied in the
// order given; the first layer attached is the outermost. The built Worker
// is an immutable triple {name, source, composed handler} that an external
// monitor drives to completion.
package conveyor
