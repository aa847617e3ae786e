package runtime

// OutOfBandSend pushes a value directly to the subscriber channel, bypassing
// the queue. Use ONLY while the queue is paused and the channel has buffer
// space left for the value.
func (sq *SubQueue[T]) OutOfBandSend(v T) {
	sq.outCh <- v
}
