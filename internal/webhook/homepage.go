package webhook

import _ "embed"

// HomepagePath is served to unauthenticated GET probes.
const HomepagePath = "/probot"

//go:embed homepage.html
var homepage []byte
