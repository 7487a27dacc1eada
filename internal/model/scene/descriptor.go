package scene

// Descriptor 场景描述符
// 说明：由大模型单次调用产出（与图片提示词同一次响应），创建后不可变。
// Action/Location 存储的是规范化后的短语；空串表示"未知"，未知之间永不互相匹配
type Descriptor struct {
	Characters []string `bson:"characters" json:"characters"`                     // 场景中出现的角色标识（有序去重，允许为空：纯环境镜头）
	Action     string   `bson:"action" json:"action"`                             // 动作短语（规范化小写）
	Location   string   `bson:"location" json:"location"`                         // 地点短语（规范化小写）
	StyleTags  []string `bson:"style_tags,omitempty" json:"style_tags,omitempty"` // 风格标签（时间、氛围等），只做参考，不参与匹配门槛
}

// HasCharacters 是否包含角色
func (d *Descriptor) HasCharacters() bool {
	return len(d.Characters) > 0
}

// ActionKnown 动作是否已知（空串视为未知）
func (d *Descriptor) ActionKnown() bool {
	return d.Action != ""
}

// LocationKnown 地点是否已知（空串视为未知）
func (d *Descriptor) LocationKnown() bool {
	return d.Location != ""
}
