package authgate

import (
	"testing"
	"time"
)

func TestRefreshMetadataRoundTrip(t *testing.T) {
	in := RefreshMetadata{
		RefreshID: "r1",
		AccessID:  "a1",
		Subject:   "alice",
		IssuedAt:  time.Unix(1_700_000_000, 0),
	}

	out, err := DecodeRefreshMetadata(in.RefreshID, in.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestRefreshMetadataSubjectWithSeparator(t *testing.T) {
	in := RefreshMetadata{
		RefreshID: "r1",
		AccessID:  "a1",
		Subject:   "tenant|alice",
		IssuedAt:  time.Unix(1_700_000_000, 0),
	}

	out, err := DecodeRefreshMetadata(in.RefreshID, in.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Subject != "tenant|alice" {
		t.Fatalf("subject = %q, want tenant|alice", out.Subject)
	}
}

func TestRefreshMetadataMalformed(t *testing.T) {
	for _, value := range []string{"", "no-separators", "one|field", "a1|alice|not-a-number"} {
		if _, err := DecodeRefreshMetadata("r1", value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}
