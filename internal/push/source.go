package push

import "context"

// StaticTokenSource is a TokenSource with fixed answers, used when the
// agent runs headless and the device token is provisioned through
// configuration instead of resolved from the OS at runtime.
type StaticTokenSource struct {
	Physical  bool
	Granted   bool
	PushToken string
	Plat      string
}

func (s *StaticTokenSource) IsPhysicalDevice() bool {
	return s.Physical
}

func (s *StaticTokenSource) RequestPermission(ctx context.Context) (bool, error) {
	return s.Granted, nil
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, string, error) {
	return s.PushToken, s.Plat, nil
}
