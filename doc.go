// Package promise implements an A+ compliant thenable with a user-space
// microtask engine and ambient async scopes, for hosts whose native
// microtask queue is unsuitable for chained continuations — the motivating
// case being transactional I/O subsystems that keep a transaction alive only
// while callbacks reenter synchronously within the same dispatched event.
//
// General Notes:-
//
//   - All state belonging to a single [Engine] (its scheduler, scope tree,
//     and unhandled-rejection tracker) is reachable from any goroutine, but
//     structural operations (scope switches, tick drains) are internally
//     serialized; see the [Engine.NewScope] doc comment for the exact
//     guarantees.
//   - Diagnostics (long stacks) are opt-in per Engine, via [WithDiagnostics].
//     When disabled, no stack is ever captured.
//   - There is a package-level default [Engine], used by [Resolve], [Reject],
//     [NewPSD], [UsePSD] and [PSD]. [New], [WithResolvers] and the
//     combinators take an explicit Engine. Construct your own via [NewEngine]
//     when you need isolation, e.g. in tests.
//
// Callback Notes:-
//
//   - A handler passed to [Promise.Then] always runs asynchronously relative
//     to the call that settled its upstream promise, even if the upstream was
//     already settled at attach time. The one exception is a promise
//     constructed with the internal "library mode" capability, which is
//     never exposed to callers of this package.
//   - A handler's return value becomes the fulfillment value of the derived
//     promise; a panic inside a handler is recovered and its value becomes
//     the derived promise's rejection reason, unmodified — the Go analogue
//     of a JS handler throw.
package promise
