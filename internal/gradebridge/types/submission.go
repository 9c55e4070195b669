package types

// File is a single decrypted attachment.
type File struct {
	Name    string
	Content []byte
}

// Submission is the decrypted form of an envelope.  CourseIDs and
// AssignmentIDs are parallel: AssignmentIDs[i] belongs to CourseIDs[i].
type Submission struct {
	User          string
	CourseIDs     []string
	AssignmentIDs []string
	Points        *float64 // nil when the envelope carried no points
	HalfCredit    bool
	Files         []File
}
