package cluster

import "github.com/sakerbuild/daemon/internal/daemonmodel"

func requestToExecutionContext(r createTaskInvokerRequest) daemonmodel.ExecutionContext {
	return daemonmodel.ExecutionContext{
		FileProviderUUID: r.FileProviderUUID,
		WorkingDirectory: r.WorkingDirectory,
		CoordinatorKey:   r.CoordinatorKey,
	}
}
