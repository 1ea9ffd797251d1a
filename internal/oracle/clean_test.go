package oracle

import "testing"

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "surrounding prose", in: "Here you go: {\"a\": {\"b\": 2}} hope it helps", want: `{"a": {"b": 2}}`},
		{name: "no object", in: "sorry", wantErr: true},
		{name: "broken object", in: `{"a": }`, wantErr: true},
		{name: "reversed braces", in: `} {`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanJSON(tt.in)
			if tt.wantErr {
				if err == nil || err.Kind != KindMalformed {
					t.Fatalf("CleanJSON(%q) err = %v, want malformed", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanJSON(%q): %v", tt.in, err)
			}
			if string(got) != tt.want {
				t.Errorf("CleanJSON(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
