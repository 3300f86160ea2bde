package poller

import "testing"

func TestDecodeSnapshots(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantIDs []string
		wantErr bool
	}{
		{"array", `[{"id":"F1","revision":1,"status":"scheduled"},{"id":"F2","revision":4,"status":"landed"}]`, []string{"F1", "F2"}, false},
		{"envelope", ` {"flights":[{"id":"F3","revision":2,"status":"boarding"}]}`, []string{"F3"}, false},
		{"empty array", `[]`, nil, false},
		{"empty envelope", `{}`, nil, false},
		{"blank body", "  \n", nil, true},
		{"malformed", `[{"id":`, nil, true},
		{"wrong shape", `"F1"`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snaps, err := DecodeSnapshots([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeSnapshots() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(snaps) != len(tt.wantIDs) {
				t.Fatalf("len(snapshots) = %d, want %d", len(snaps), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if snaps[i].ID != id {
					t.Errorf("snapshots[%d].ID = %q, want %q", i, snaps[i].ID, id)
				}
			}
		})
	}
}
