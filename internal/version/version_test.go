package version

import "testing"

func TestString(t *testing.T) {
	origSHA := GitSHA
	t.Cleanup(func() { GitSHA = origSHA })

	GitSHA = "0123456789abcdef0123"
	if got, want := String("csi-sensor"), "csi-sensor dev (0123456789ab, built unknown)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	GitSHA = "abc"
	if got, want := String("csi-dump"), "csi-dump dev (abc, built unknown)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
