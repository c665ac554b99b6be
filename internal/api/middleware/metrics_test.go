package middleware

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/files", "/files"},
		{"/health/live", "/health/live"},
		{"/health/ready", "/health/ready"},
		{"/metrics", "/metrics"},
		{"/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890", "/files/{token}"},
		{"/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890/info", "/files/{token}/info"},
		{"/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890/content", "/files/{token}/content"},
		// Не-UUID сегменты не нормализуются
		{"/files/not-a-uuid/info", "/files/not-a-uuid/info"},
		{"/unknown/path", "/unknown/path"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.want)
		}
	}
}
