package notifier

import (
	"fmt"

	"hazard-watch/internal/models"
)

// 各语言的违规消息模板
// 接近类模板带一个距离参数（像素）
var warningTemplates = map[string]map[models.ViolationKind]string{
	"en": {
		models.ViolationNoHardhat:     "Worker detected without a hardhat",
		models.ViolationNoVest:        "Worker detected without a safety vest",
		models.ViolationNearMachinery: "Worker too close to machinery (%.0f px)",
		models.ViolationNearVehicle:   "Worker too close to a vehicle (%.0f px)",
		models.ViolationZoneIntrusion: "Worker entered the controlled area",
	},
	"zh-TW": {
		models.ViolationNoHardhat:     "偵測到未戴安全帽的工人",
		models.ViolationNoVest:        "偵測到未穿反光背心的工人",
		models.ViolationNearMachinery: "工人過於靠近機具（%.0f px）",
		models.ViolationNearVehicle:   "工人過於靠近車輛（%.0f px）",
		models.ViolationZoneIntrusion: "工人進入管制區域",
	},
	"zh-CN": {
		models.ViolationNoHardhat:     "检测到未戴安全帽的工人",
		models.ViolationNoVest:        "检测到未穿反光背心的工人",
		models.ViolationNearMachinery: "工人过于靠近机械（%.0f px）",
		models.ViolationNearVehicle:   "工人过于靠近车辆（%.0f px）",
		models.ViolationZoneIntrusion: "工人进入管制区域",
	},
}

// Translate 按语言渲染违规消息；无对应模板时回退到 fallback 语言
func Translate(ev models.ViolationEvent, language, fallback string) string {
	templates, ok := warningTemplates[language]
	if !ok {
		templates, ok = warningTemplates[fallback]
		if !ok {
			templates = warningTemplates["en"]
		}
	}

	tmpl, ok := templates[ev.Kind]
	if !ok {
		return string(ev.Kind)
	}

	if ev.Distance != nil {
		return fmt.Sprintf(tmpl, *ev.Distance)
	}
	return tmpl
}

// FormatMessage 组装完整通知正文：流名 + 检测时间 + 违规描述
func FormatMessage(streamName string, ev models.ViolationEvent, language, fallback string) string {
	return fmt.Sprintf("%s\n[%s]\n%s",
		streamName,
		ev.DetectedAt.Format("2006-01-02 15:04:05"),
		Translate(ev, language, fallback),
	)
}
