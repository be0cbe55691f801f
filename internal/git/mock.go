package git

// Mock is a canned Operations implementation for tests.
type Mock struct {
	Branch      string
	Commit      string
	Root        string
	Committed   []string
	Uncommitted []string
	Err         error
}

// NewMock returns a mock describing a clean repo on main.
func NewMock() *Mock {
	return &Mock{Branch: "main", Commit: "0000000000000000000000000000000000000000"}
}

func (m *Mock) CurrentBranch(string) string { return m.Branch }
func (m *Mock) HeadCommit(string) string    { return m.Commit }

func (m *Mock) WorktreeRoot(repoPath string) string {
	if m.Root != "" {
		return m.Root
	}
	return repoPath
}

func (m *Mock) CommittedFilesSince(string, string) ([]string, error) {
	return m.Committed, m.Err
}

func (m *Mock) UncommittedFiles(string) ([]string, error) {
	return m.Uncommitted, m.Err
}
