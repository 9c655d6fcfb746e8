package inbox

import (
	"context"
	"fmt"
	"log"

	"github.com/hotaru-social/hotaru/types"
)

// Handler performs the domain side effect of one activity type.
type Handler interface {
	Handle(ctx context.Context, activity *types.Activity, ic *Context) Result
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, activity *types.Activity, ic *Context) Result

func (f HandlerFunc) Handle(ctx context.Context, activity *types.Activity, ic *Context) Result {
	return f(ctx, activity, ic)
}

// Dispatcher routes a validated activity to the handler registered for its
// type. Unknown types are a neutral success: peers send many types a given
// implementation does not support, and rejecting the request would break
// their retry logic.
type Dispatcher struct {
	handlers map[types.ActivityType]Handler
}

// NewDispatcher builds the static registry over the supported vocabulary.
func NewDispatcher(deps Deps) *Dispatcher {
	return &Dispatcher{
		handlers: map[types.ActivityType]Handler{
			types.TypeFollow:   &followHandler{deps},
			types.TypeUndo:     &undoHandler{deps},
			types.TypeLike:     &likeHandler{deps},
			types.TypeCreate:   &createHandler{deps},
			types.TypeDelete:   &deleteHandler{deps},
			types.TypeAccept:   &acceptHandler{deps: deps, reject: false},
			types.TypeReject:   &acceptHandler{deps: deps, reject: true},
			types.TypeAnnounce: &announceHandler{deps},
			types.TypeUpdate:   &updateHandler{deps},
		},
	}
}

// Dispatch invokes the handler for the activity's type. Any panic or error
// inside a handler is converted into a logged failure result here; nothing
// escapes to crash the inbox request.
func (d *Dispatcher) Dispatch(ctx context.Context, activity *types.Activity, ic *Context) (result Result) {
	ctx, span := tracer.Start(ctx, "InboxDispatch")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			span.RecordError(err)
			result = failed(fmt.Sprintf("%s handler panicked", activity.Type), err)
			log.Printf("inbox: %s from %s: %v", activity.Type, activity.Actor, err)
		}
	}()

	handler, known := d.handlers[activity.Type]
	if !known {
		log.Printf("inbox: unsupported activity type %q from %s, ignored", activity.Type, activity.Actor)
		return ok("unsupported activity type, ignored")
	}

	result = handler.Handle(ctx, activity, ic)
	if result.Err != nil {
		span.RecordError(result.Err)
		log.Printf("inbox: %s from %s: %s: %v", activity.Type, activity.Actor, result.Message, result.Err)
	}
	return result
}
