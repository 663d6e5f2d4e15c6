package extraction

import "testing"

func TestExtractEmails(t *testing.T) {
	text := `Contact Jane Doe <jane.doe@cs.stanford.edu> or the team at
team@example.com. Jane can also be reached at JANE.DOE@cs.stanford.edu
or jdoe+papers@gmail.com.`

	got := ExtractEmails(text)
	want := []string{"jane.doe@cs.stanford.edu", "team@example.com", "jdoe+papers@gmail.com"}
	if len(got) != len(want) {
		t.Fatalf("got %d emails %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("email[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsUsableEmail(t *testing.T) {
	cases := []struct {
		email  string
		usable bool
	}{
		{"jane.doe@cs.stanford.edu", true},
		{"someone@gmail.com", true},
		{"noreply@github.com", false},
		{"no-reply@huggingface.co", false},
		{"support@vendor.io", false},
		{"git@github.com", false},
		{"anyone@example.com", false},
		{"anyone@placeholder.com", false},
		{"not-an-email", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsUsableEmail(tc.email); got != tc.usable {
			t.Fatalf("IsUsableEmail(%q) = %v, want %v", tc.email, got, tc.usable)
		}
	}
}

func TestIsAcademicEmail(t *testing.T) {
	cases := []struct {
		email    string
		academic bool
	}{
		{"jane@cs.stanford.edu", true},
		{"j.doe@cam.ac.uk", true},
		{"wang@tsinghua.edu.cn", true},
		{"mueller@informatik.uni-freiburg.de", true},
		{"info@openuniversity.org", true},
		{"jane@gmail.com", false},
		{"dev@startup.io", false},
		{"broken", false},
	}
	for _, tc := range cases {
		if got := IsAcademicEmail(tc.email); got != tc.academic {
			t.Fatalf("IsAcademicEmail(%q) = %v, want %v", tc.email, got, tc.academic)
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	if JobStatusStarted.Terminal() || JobStatusInProgress.Terminal() {
		t.Fatalf("non-terminal states reported terminal")
	}
	if !JobStatusCompleted.Terminal() || !JobStatusError.Terminal() {
		t.Fatalf("terminal states not reported terminal")
	}
}
