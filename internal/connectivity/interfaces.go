package connectivity

import "net"

// InterfaceSource 根据本机网络接口判断是否联网
// 只要存在已启用且有地址的非回环接口即认为在线
type InterfaceSource struct {
	list func() ([]net.Interface, error)
}

// NewInterfaceSource 创建基于网络接口的状态源
func NewInterfaceSource() *InterfaceSource {
	return &InterfaceSource{list: net.Interfaces}
}

// Online 实现 Source
func (s *InterfaceSource) Online() bool {
	ifaces, err := s.list()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		return true
	}
	return false
}

// StaticSource 固定状态源，用于测试或无平台事件的环境
type StaticSource bool

// Online 实现 Source
func (s StaticSource) Online() bool { return bool(s) }
