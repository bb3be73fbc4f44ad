// Package dispatch fires scheduled publications at their wall-clock
// instants.
//
// The Dispatcher keeps a min-heap of pending fire times over the task
// store and sleeps until the earliest one; submitting or editing a task
// re-arms the timer. Each firing runs in its own goroutine so a slow
// Telegram call never delays unrelated occurrences, while occurrences of
// the same task stay strictly sequential.
//
// The heap is a cache: the store remains the source of truth, and the
// fire path re-fetches every task right before publishing so a
// concurrent cancel or edit wins.
//
// The Deleter is the same idea scoped down to one-shot "remove this
// message later" jobs.
package dispatch
