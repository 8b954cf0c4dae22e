package trigger

import "leetbot/pkg/logx"

func testLogger() logx.Logger { return logx.NewConsole("error") }
