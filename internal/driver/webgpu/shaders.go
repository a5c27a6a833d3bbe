package webgpu

// WGSL compute shaders for dropout mask preparation.
// Using string constants instead of embed for simplicity.

// workgroupSize is the default number of threads per workgroup.
const workgroupSize = 256

// bernoulliShader turns uniform randoms into an inverted-dropout mask:
// entries below prob are zeroed, survivors get 1/(1-prob).
const bernoulliShader = `
@group(0) @binding(0) var<storage, read_write> mult: array<f32>;
@group(0) @binding(1) var<storage, read> rand: array<f32>;

struct Params {
    size: u32,
    prob: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        if (rand[idx] < params.prob) {
            mult[idx] = 0.0;
        } else {
            mult[idx] = 1.0 / (1.0 - params.prob);
        }
    }
}
`

// gaussianShader shifts zero-mean noise to a unit-mean multiplicative mask:
// mult = 1 + rand.
const gaussianShader = `
@group(0) @binding(0) var<storage, read_write> mult: array<f32>;
@group(0) @binding(1) var<storage, read> rand: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        mult[idx] = 1.0 + rand[idx];
    }
}
`
