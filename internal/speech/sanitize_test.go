package speech

import "testing"

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text untouched",
			in:   "Hello there, how are you?",
			want: "Hello there, how are you?",
		},
		{
			name: "strips emoticons",
			in:   "Great job! 😀🎉",
			want: "Great job!",
		},
		{
			name: "strips transport pictographs",
			in:   "Your 🚗 is ready",
			want: "Your is ready",
		},
		{
			name: "celsius",
			in:   "It is 25°C outside",
			want: "It is 25 degrees Celsius outside",
		},
		{
			name: "fahrenheit",
			in:   "Oven at 350°F",
			want: "Oven at 350 degrees Fahrenheit",
		},
		{
			name: "percent and ampersand",
			in:   "50% off shoes & hats",
			want: "50 percent off shoes and hats",
		},
		{
			name: "currency symbols",
			in:   "$5 or €4 or £3 or ₹200",
			want: "dollars 5 or euros 4 or pounds 3 or rupees 200",
		},
		{
			name: "at and hash",
			in:   "ping me @home #urgent",
			want: "ping me at home hash urgent",
		},
		{
			name: "ellipses collapse to space",
			in:   "Well... maybe.. yes",
			want: "Well maybe yes",
		},
		{
			name: "whitespace collapsed",
			in:   "  spaced   out\ttext \n here ",
			want: "spaced out text here",
		},
		{
			name: "everything sanitized away",
			in:   "🎉🎉🎉",
			want: "",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
