package history

// Cursor reads the records of a store strictly in order, once. There is no
// rewind.
type Cursor struct {
	store *Store
	next  int
	done  bool
}

// Next returns the next record restricted to fields, or ErrEndOfHistory.
// After ErrEndOfHistory every further call returns ErrEndOfHistory again.
func (c *Cursor) Next(fields ...Field) (EvaluationRecord, error) {
	if c.done {
		return EvaluationRecord{}, ErrEndOfHistory
	}
	rec, err := c.store.Record(c.next, fields...)
	if err == ErrEndOfHistory {
		c.done = true
		return EvaluationRecord{}, err
	}
	if err != nil {
		return EvaluationRecord{}, err
	}
	c.next++
	return rec, nil
}

// Consumed returns how many records were handed out.
func (c *Cursor) Consumed() int { return c.next }
