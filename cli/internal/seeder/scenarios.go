package seeder

import (
	"fmt"
	"time"
)

// Windows Security event IDs
const (
	eventLogonSuccess   = 4624
	eventLogonFailure   = 4625
	eventProcessCreated = 4688
	eventGlobalGroupAdd = 4728
	eventLocalGroupAdd  = 4732
	eventUniversalAdd   = 4756
)

var failureReasons = []string{
	"%%2313", // unknown user name or bad password
	"%%2304",
	"%%2310",
}

var lolbins = []string{
	`C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`,
	`C:\Windows\System32\cmd.exe`,
	`C:\Windows\System32\wscript.exe`,
	`C:\Windows\System32\cscript.exe`,
	`C:\Windows\System32\rundll32.exe`,
	`C:\Windows\System32\regsvr32.exe`,
	`C:\Windows\System32\mshta.exe`,
	`C:\Windows\System32\certutil.exe`,
}

var benignProcesses = []string{
	`C:\Windows\explorer.exe`,
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Windows\System32\svchost.exe`,
}

func init() {
	register(bruteForce{})
	register(privilegeGrant{})
	register(lolbin{})
	register(benign{})
}

// bruteForce emits failed logons for one user from one address, one per
// minute, ending a few minutes before now.
type bruteForce struct{}

func (bruteForce) Name() string { return "brute-force" }
func (bruteForce) Description() string {
	return "T1110.001 password guessing: repeated 4625 failures for one user from one IP"
}
func (bruteForce) DefaultCount() int { return 6 }

func (bruteForce) Generate(g *Generator, p Params) []Event {
	host, user, ip := g.host(p), g.user(p), g.ip(p)
	start := p.Now.Add(-time.Duration(p.Count+5) * time.Minute)

	out := make([]Event, 0, p.Count)
	for i := 0; i < p.Count; i++ {
		e := g.event(eventLogonFailure, host, start.Add(time.Duration(i)*time.Minute+g.jitter(20*time.Second)))
		e["TargetUserName"] = user
		e["TargetDomainName"] = "CORP"
		e["IpAddress"] = ip
		e["IpPort"] = fmt.Sprintf("%d", 49152+g.rnd.Intn(16000))
		e["LogonType"] = 3
		e["FailureReason"] = failureReasons[g.rnd.Intn(len(failureReasons))]
		e["Status"] = "0xc000006d"
		out = append(out, e)
	}
	return out
}

// privilegeGrant adds users to security-enabled groups.
type privilegeGrant struct{}

func (privilegeGrant) Name() string { return "privilege-grant" }
func (privilegeGrant) Description() string {
	return "T1098 account manipulation: members added to global, local or universal groups"
}
func (privilegeGrant) DefaultCount() int { return 2 }

func (privilegeGrant) Generate(g *Generator, p Params) []Event {
	kinds := []int{eventGlobalGroupAdd, eventLocalGroupAdd, eventUniversalAdd}
	groups := []string{"Domain Admins", "Administrators", "Enterprise Admins"}
	host, ip := g.host(p), g.ip(p)

	out := make([]Event, 0, p.Count)
	for i := 0; i < p.Count; i++ {
		k := g.rnd.Intn(len(kinds))
		e := g.event(kinds[k], host, p.Now.Add(-g.jitter(2*time.Hour)))
		e["SubjectUserName"] = "svc-" + g.faker.LetterN(5)
		e["TargetUserName"] = groups[k]
		e["MemberName"] = fmt.Sprintf("CN=%s,OU=Users,DC=corp,DC=local", g.user(p))
		e["IpAddress"] = ip
		out = append(out, e)
	}
	return out
}

// lolbin launches interpreters and admin binaries commonly abused for
// living-off-the-land execution.
type lolbin struct{}

func (lolbin) Name() string { return "lolbin" }
func (lolbin) Description() string {
	return "T1059 command and scripting interpreter: 4688 process creation of abused binaries"
}
func (lolbin) DefaultCount() int { return 3 }

func (lolbin) Generate(g *Generator, p Params) []Event {
	host, user := g.host(p), g.user(p)

	out := make([]Event, 0, p.Count)
	for i := 0; i < p.Count; i++ {
		proc := lolbins[g.rnd.Intn(len(lolbins))]
		e := g.event(eventProcessCreated, host, p.Now.Add(-g.jitter(3*time.Hour)))
		e["SubjectUserName"] = user
		e["NewProcessName"] = proc
		e["ParentProcessName"] = `C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe`
		e["CommandLine"] = proc + " -nop -w hidden -enc " + g.faker.LetterN(24)
		out = append(out, e)
	}
	return out
}

// benign produces successful logons and ordinary process starts that must
// not raise alerts.
type benign struct{}

func (benign) Name() string { return "benign" }
func (benign) Description() string {
	return "Background noise: successful 4624 logons and ordinary 4688 process starts"
}
func (benign) DefaultCount() int { return 20 }

func (benign) Generate(g *Generator, p Params) []Event {
	host := g.host(p)

	out := make([]Event, 0, p.Count)
	for i := 0; i < p.Count; i++ {
		at := p.Now.Add(-g.jitter(12 * time.Hour))
		if i%4 == 3 {
			e := g.event(eventProcessCreated, host, at)
			e["SubjectUserName"] = g.faker.Username()
			e["NewProcessName"] = benignProcesses[g.rnd.Intn(len(benignProcesses))]
			out = append(out, e)
			continue
		}
		e := g.event(eventLogonSuccess, host, at)
		e["TargetUserName"] = g.faker.Username()
		e["IpAddress"] = g.faker.IPv4Address()
		e["LogonType"] = 2
		out = append(out, e)
	}
	return out
}
