package evh

// Attachment is an opaque user payload attached to a listener or an
// accepted stream. A stream without its own attachment inherits the
// accepting listener's: stream's own attachment first, else the
// accepting listener's if the stream has one, else nil — resolved
// explicitly rather than through implicit nil propagation.
type Attachment = any
