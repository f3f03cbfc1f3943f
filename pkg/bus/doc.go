/*
Package bus provides the synchronous publish/subscribe registry the ledger
broadcasts on.

Delivery is in subscription order on the publishing goroutine. Publish works on
a point-in-time copy of the subscriber list, so handlers may subscribe or
unsubscribe re-entrantly without affecting the in-flight delivery. A handler
error stops delivery and is returned to the publisher: the bus does not isolate
subscribers from one another, writers are expected to handle their own failures.

Every subscription returns an UnsubscribeFunc. Unsubscribe by value only works
for comparable Listeners registered with SubscribeListener; plain funcs must be
removed through their UnsubscribeFunc.
*/
package bus
